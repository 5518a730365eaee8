package network

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestMarkStage(t *testing.T) {
	cause := errors.New("boom")
	err := MarkStage(cause, StageSend)

	assert.True(t, errors.Is(err, ErrSendFailed))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrDecodeFailed))
	assert.Equal(t, "boom", err.Error())

	assert.Nil(t, MarkStage(nil, StageSend))
	assert.Equal(t, cause, MarkStage(cause, Stage("other")))
}
