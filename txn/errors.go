package txn

import (
	"errors"
	"fmt"

	"github.com/xraph/stockpile/id"
)

// Sentinel errors carried by ProtocolError.
var (
	ErrClosed            = errors.New("txn: transaction is closed")
	ErrNotTopOfStack     = errors.New("txn: transaction is not the top of the stack")
	ErrNoTransaction     = errors.New("txn: no open transaction")
	ErrResolving         = errors.New("txn: transaction is resolving")
	ErrForeignManager    = errors.New("txn: store belongs to another manager")
	ErrPrimaryAlreadySet = errors.New("txn: primary caller already designated")
)

// ProtocolError reports a violation of the transaction ordering contract.
// It is raised with panic and indicates a bug in the embedding application.
type ProtocolError struct {
	Op   string
	TxID id.ID
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.TxID.IsNil() {
		return fmt.Sprintf("txn: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("txn: %s %s: %v", e.Op, e.TxID, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func violation(op string, tx *Transaction, err error) {
	pe := &ProtocolError{Op: op, Err: err}
	if tx != nil {
		pe.TxID = tx.id
	}
	panic(pe)
}
