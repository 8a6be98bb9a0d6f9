package json

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fwojciec/paystream"
)

// receipt is the v1 on-disk record of a finished session.
type receipt struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id"`
	Recipient string    `json:"recipient"`
	Asset     string    `json:"asset"`
	TotalSent string    `json:"total_sent"`
	Threshold string    `json:"threshold"`
	Transfers int       `json:"transfers"`
	LastError string    `json:"last_error,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Receipt is a persisted summary of one session.
type Receipt struct {
	State   paystream.State
	SavedAt time.Time
}

// MarshalReceipt serializes a session summary in v1 format.
func MarshalReceipt(r Receipt) ([]byte, error) {
	s := r.State
	return json.MarshalIndent(receipt{
		Version:   1,
		SessionID: s.SessionID,
		Recipient: s.Config.Recipient,
		Asset:     s.Config.Asset,
		TotalSent: s.TotalSent,
		Threshold: s.Config.ThresholdTotal,
		Transfers: s.Transfers,
		LastError: s.LastError,
		SavedAt:   r.SavedAt,
	}, "", "  ")
}

// UnmarshalReceipt deserializes a v1 session summary. The restored state is
// always stopped.
func UnmarshalReceipt(data []byte) (Receipt, error) {
	var dto receipt
	if err := json.Unmarshal(data, &dto); err != nil {
		return Receipt{}, fmt.Errorf("unmarshal receipt: %w", err)
	}
	if dto.Version != 1 {
		return Receipt{}, fmt.Errorf("unsupported receipt version: %d", dto.Version)
	}
	return Receipt{
		State: paystream.State{
			Phase:     paystream.PhaseStopped,
			TotalSent: dto.TotalSent,
			LastError: dto.LastError,
			SessionID: dto.SessionID,
			Transfers: dto.Transfers,
			Config: paystream.StreamConfig{
				Recipient:      dto.Recipient,
				Asset:          dto.Asset,
				ThresholdTotal: dto.Threshold,
			},
		},
		SavedAt: dto.SavedAt,
	}, nil
}

// Save writes a receipt to path, creating parent directories as needed.
func Save(path string, r Receipt) error {
	data, err := MarshalReceipt(r)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads a receipt from path.
func Load(path string) (Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalReceipt(data)
}
