package network

import (
	"context"
	stderrors "errors"
	"net"
	"syscall"

	apperrors "github.com/Laynholt/ymd2/internal/errors"
)

// IsConnectivity reports whether err means the remote side could not be
// reached at all: DNS failures, refused or unreachable dials.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return true
	}

	if stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ENETUNREACH) ||
		stderrors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var opErr *net.OpError
	if stderrors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return true
	}

	return false
}

// Classify converts a transport error into an application error. Connectivity
// failures become connectivity errors, everything else (timeouts, resets,
// truncated bodies) is a transfer error. Context cancellation is returned as is.
func Classify(message string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	if IsConnectivity(err) {
		return apperrors.NewConnectivityError(message, err)
	}
	return apperrors.NewTransferError(message, err)
}
