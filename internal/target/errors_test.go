package target

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	inner := errors.New("exit status 128")
	err := NewError("git", "set", inner)

	assert.Equal(t, "git: set: exit status 128", err.Error())
	assert.Equal(t, inner, err.Unwrap())
	assert.Equal(t, "git", TargetName(err))
	assert.Empty(t, TargetName(inner))
}

func TestInvocation(t *testing.T) {
	assert.Nil(t, Invocation("npm", "set", nil))

	err := Invocation("npm", "set", errors.New("boom"))
	assert.True(t, errors.Is(err, ErrBackendInvocation))

	denied := Invocation("system", "set", ErrPermissionDenied)
	assert.True(t, errors.Is(denied, ErrPermissionDenied))
	assert.False(t, errors.Is(denied, ErrBackendInvocation))
}

func TestWarning(t *testing.T) {
	w := &Warning{Target: "environment", Message: "session only", Err: errors.New("denied")}
	assert.Equal(t, "environment: session only: denied", w.Error())

	got, ok := AsWarning(w)
	assert.True(t, ok)
	assert.Equal(t, w, got)

	_, ok = AsWarning(errors.New("plain"))
	assert.False(t, ok)
}
