package pkg

import (
	"errors"
	"testing"
)

func TestTransferStatus_String(t *testing.T) {
	tests := []struct {
		status TransferStatus
		want   string
	}{
		{TransferStatusSuccess, "success"},
		{TransferStatusError, "error"},
		{TransferStatusStall, "stall"},
		{TransferStatusCancelled, "cancelled"},
		{TransferStatusOverrun, "overrun"},
		{TransferStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("TransferStatus.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransferStatus_Error(t *testing.T) {
	tests := []struct {
		status  TransferStatus
		wantErr error
	}{
		{TransferStatusSuccess, nil},
		{TransferStatusStall, ErrStall},
		{TransferStatusCancelled, ErrCancelled},
		{TransferStatusOverrun, ErrOverrun},
		{TransferStatusError, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("TransferStatus.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("TransferStatus.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want TransferStatus
	}{
		{nil, TransferStatusSuccess},
		{ErrStall, TransferStatusStall},
		{ErrCancelled, TransferStatusCancelled},
		{ErrReset, TransferStatusCancelled},
		{ErrOverrun, TransferStatusOverrun},
		{ErrProtocol, TransferStatusError},
		{ErrNAK, TransferStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := StatusOf(tt.err); got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	// Verify all sentinel errors are distinct
	errs := []error{
		ErrStall,
		ErrNAK,
		ErrCancelled,
		ErrOverrun,
		ErrProtocol,
		ErrNotConfigured,
		ErrInvalidEndpoint,
		ErrInvalidState,
		ErrInvalidRequest,
		ErrBufferTooSmall,
		ErrNotSupported,
		ErrBusy,
		ErrNoMemory,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
		ErrAlreadyRunning,
		ErrNotRunning,
		ErrInvalidParameter,
		ErrReset,
	}

	for i, a := range errs {
		for j, b := range errs {
			if i != j && errors.Is(a, b) {
				t.Errorf("errors %v and %v are not distinct", a, b)
			}
		}
	}
}
