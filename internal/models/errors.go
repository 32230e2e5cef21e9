package models

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrNoDriverAvailable = errors.New("no driver available")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyTerminal   = errors.New("ride already completed or cancelled")
	ErrInvalidRating     = errors.New("rating must be an integer between 1 and 5")
	ErrAlreadyRated      = errors.New("ride already rated")
)

// FundsError reports how far a wallet falls short of a fare.
type FundsError struct {
	Need    float64
	Balance float64
}

func (e *FundsError) Error() string {
	return fmt.Sprintf("insufficient balance: need %.2f, have %.2f", e.Need, e.Balance)
}

func (e *FundsError) Shortfall() float64 { return e.Need - e.Balance }

func (e *FundsError) Unwrap() error { return ErrInsufficientFunds }
