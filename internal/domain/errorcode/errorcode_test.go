package errorcode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_FormatsWithoutCause(t *testing.T) {
	err := New(PosUnknownInstrument, High, "instrument not subscribed")
	assert.Equal(t, "POS-001: instrument not subscribed", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestWrap_FormatsWithCauseAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(VenCredentialMissing, Critical, "failed to reach venue", cause)
	assert.Equal(t, "VEN-001: failed to reach venue: connection refused", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_CarriesCodeAndSeverity(t *testing.T) {
	err := New(ExecReconcileTimeout, Critical, "did not converge")
	assert.Equal(t, ExecReconcileTimeout, err.Code)
	assert.Equal(t, Critical, err.Severity)
}

func TestErrors_As_MatchesConcreteType(t *testing.T) {
	var target *Error
	err := Wrap(DataMissingField, High, "row missing", errors.New("sql: no rows"))
	assert.True(t, errors.As(error(err), &target))
	assert.Equal(t, DataMissingField, target.Code)
}
