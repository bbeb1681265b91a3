package orchestrator

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/l0run/l0/errs"
)

// Classify maps an arbitrary error into the closed Kind enum for adapters
// and transports that don't already tag their failures. Prefer a
// *errs.RuntimeError's own Kind when one is already attached; this is the
// fallback path, grounded on chain_client.go's isClientError pattern
// matching over an error's text.
func Classify(err error) errs.Kind {
	if err == nil {
		return errs.KindUnknown
	}

	var re *errs.RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}

	if errors.Is(err, context.Canceled) {
		return errs.KindAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.KindInterTokenTimeout
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.KindIncomplete
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return errs.KindInterTokenTimeout
		}
		return errs.KindNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "invalid parameter"), strings.Contains(msg, "bad request"):
		return errs.KindMalformed
	case strings.Contains(msg, "connection"), strings.Contains(msg, "reset by peer"), strings.Contains(msg, "no route to host"):
		return errs.KindNetworkError
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return errs.KindInterTokenTimeout
	default:
		return errs.KindStreamError
	}
}
