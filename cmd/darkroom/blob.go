package main

import (
	"fmt"
	"os"

	"github.com/tailored-agentic-units/darkroom/adjustment"
)

// readBlob loads an adjustment blob saved by writeBlob.
func readBlob(path string) (*adjustment.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read adjustment: %w", err)
	}
	var b adjustment.Blob
	if err := b.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode adjustment: %w", err)
	}
	return &b, nil
}

func writeBlob(path string, b *adjustment.Blob) error {
	data, err := b.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode adjustment: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write adjustment: %w", err)
	}
	return nil
}
