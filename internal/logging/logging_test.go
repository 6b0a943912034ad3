package logging

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "JSON format to stdout",
			config: Config{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "Console format to stderr",
			config: Config{
				Level:  "debug",
				Format: "console",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "Invalid log level defaults to info",
			config: Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && logger == nil {
				t.Error("Expected non-nil logger")
			}
		})
	}
}

func TestFieldHelpers(t *testing.T) {
	logger := Nop()

	if logger.WithStream("stream-1") == nil {
		t.Error("WithStream returned nil")
	}
	if logger.WithSchedule("sched-1") == nil {
		t.Error("WithSchedule returned nil")
	}
	if logger.WithComponent("scheduler") == nil {
		t.Error("WithComponent returned nil")
	}

	// Should not panic on a nop logger
	logger.LogStatusChange("stream-1", "live", "error", "process exited")
	logger.LogScheduleDispatch("sched-1", "stream-1", "dispatched")
}
