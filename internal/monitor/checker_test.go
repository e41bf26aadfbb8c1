// File: internal/monitor/checker_test.go
package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/blswatch/internal/browser"
	"github.com/xkilldash9x/blswatch/internal/browser/browsertest"
)

type fakeSession struct {
	calls int
	err   error
	steps *[]string
}

func (f *fakeSession) EnsureAuthenticated(ctx context.Context, pg browser.Page) error {
	f.calls++
	*f.steps = append(*f.steps, "auth")
	return f.err
}

type fakeForm struct {
	steps       *[]string
	navErr      error
	fillErr     error
	available   bool
	submitErr   error
	submitCalls int
}

func (f *fakeForm) NavigateToForm(ctx context.Context, pg browser.Page) error {
	*f.steps = append(*f.steps, "navigate")
	return f.navErr
}

func (f *fakeForm) Fill(ctx context.Context, pg browser.Page) error {
	*f.steps = append(*f.steps, "fill")
	return f.fillErr
}

func (f *fakeForm) SubmitAndCheck(ctx context.Context, pg browser.Page) (bool, error) {
	f.submitCalls++
	*f.steps = append(*f.steps, "submit")
	return f.available, f.submitErr
}

type fakeStore struct {
	saved [][]byte
	err   error
}

func (f *fakeStore) Save(data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.saved = append(f.saved, data)
	return "screenshots/check_1.png", nil
}

func TestCheckOnceRunsStagesInOrder(t *testing.T) {
	var steps []string
	session := &fakeSession{steps: &steps}
	formDrv := &fakeForm{steps: &steps, available: true}
	store := &fakeStore{}
	pg := &browsertest.FakePage{Shot: []byte("full-page")}

	c := NewSlotChecker(pg, session, formDrv, store, zap.NewNop())
	res, err := c.CheckOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"auth", "navigate", "fill", "submit"}, steps)
	assert.True(t, res.Available)
	assert.Equal(t, []byte("full-page"), res.Screenshot)
	assert.Equal(t, "screenshots/check_1.png", res.EvidencePath)
	require.Len(t, store.saved, 1)
}

func TestCheckOnceStopsOnAuthFailure(t *testing.T) {
	var steps []string
	session := &fakeSession{steps: &steps, err: errors.New("login failed")}
	formDrv := &fakeForm{steps: &steps}

	c := NewSlotChecker(&browsertest.FakePage{}, session, formDrv, &fakeStore{}, zap.NewNop())
	_, err := c.CheckOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"auth"}, steps)
	assert.Zero(t, formDrv.submitCalls)
}

func TestCheckOnceEvidenceFailureIsNotFatal(t *testing.T) {
	var steps []string
	session := &fakeSession{steps: &steps}
	formDrv := &fakeForm{steps: &steps, available: false}
	store := &fakeStore{err: errors.New("disk full")}

	c := NewSlotChecker(&browsertest.FakePage{Shot: []byte("png")}, session, formDrv, store, zap.NewNop())
	res, err := c.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Empty(t, res.EvidencePath)
	assert.Equal(t, []byte("png"), res.Screenshot, "screenshot still returned for alerting")
}
