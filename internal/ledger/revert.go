package ledger

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/praveen5665/bmail/internal/apierrors"
)

const revertPrefix = "execution reverted"

// asRevert converts a node error caused by a contract revert into a
// *apierrors.RevertError. Other errors are returned unchanged.
func asRevert(method string, err error) error {
	if err == nil {
		return nil
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return &apierrors.RevertError{Method: method, Reason: reason, Err: err}
				}
			}
		}
	}

	msg := err.Error()
	if i := strings.Index(msg, revertPrefix); i >= 0 {
		reason := strings.TrimPrefix(msg[i+len(revertPrefix):], ":")
		return &apierrors.RevertError{Method: method, Reason: strings.TrimSpace(reason), Err: err}
	}
	return err
}

// isRevert reports whether err is a contract rejection. Reverts are
// deterministic and never retried.
func isRevert(err error) bool {
	var re *apierrors.RevertError
	return errors.As(err, &re)
}
