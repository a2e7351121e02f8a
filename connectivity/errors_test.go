package connectivity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&ConfigurationError{Field: "factors"}, KindConfiguration},
		{&EmptyCellError{Subject: "s01", Cell: "open_1"}, KindEmptyCell},
		{&EstimationError{Err: errors.New("x")}, KindEstimation},
		{&TaskTimeoutError{Budget: time.Second}, KindTimeout},
		{&SchemaMismatchError{Field: "edges"}, KindSchemaMismatch},
		{&MissingCellError{Cell: "open_2"}, KindMissingCell},
		{fmt.Errorf("wrapped: %w", &MissingCellError{Cell: "open_2"}), KindMissingCell},
		{os.ErrPermission, KindIO},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorKind(tc.err), "%v", tc.err)
	}
}

func TestErrorMessagesNameSubjectAndCell(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "empty cell: subject s01 cell closed_2 selected 0 trials",
		(&EmptyCellError{Subject: "s01", Cell: "closed_2"}).Error())
	assert.Contains(t, (&MissingCellError{Subject: "s01", Cell: "open_2", Path: "x.json"}).Error(), "cell open_2")
	assert.Equal(t, "estimation error: subject s01 cell open_1 metric coh: boom",
		(&EstimationError{Subject: "s01", Cell: "open_1", Metric: "coh", Err: errors.New("boom")}).Error())

	cfg := &ConfigurationError{Field: "input", Reason: "archive not found", Err: os.ErrNotExist}
	assert.ErrorIs(t, cfg, os.ErrNotExist)
	est := &EstimationError{Err: context.Canceled}
	assert.ErrorIs(t, est, context.Canceled)
}
