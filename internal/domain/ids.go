package domain

import "github.com/google/uuid"

func NewRunID() string   { return "run_" + uuid.New().String() }
func NewStepID() string  { return "step_" + uuid.New().String() }
func NewEventID() string { return "evt_" + uuid.New().String() }
func NewErrorID() string { return "err_" + uuid.New().String() }
