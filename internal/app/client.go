package app

import (
	"errors"

	intrnl "wochat/internal"
)

// RunClient launches the Bubble Tea chat panel with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.SocketURL == "" {
		return errors.New("socket URL is required")
	}
	if cfg.WorkOrderID <= 0 {
		return errors.New("work order id is required")
	}
	if cfg.UserID <= 0 {
		return errors.New("user id is required")
	}
	return intrnl.RunClient(intrnl.ClientOptions{
		SocketURL:   cfg.SocketURL,
		WorkOrderID: cfg.WorkOrderID,
		Identity: intrnl.Identity{
			UserID:    cfg.UserID,
			FirstName: cfg.FirstName,
			LastName:  cfg.LastName,
			Email:     cfg.Email,
		},
		AudioDevice: cfg.AudioDevice,
	})
}
