package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// countingListener records autosave callbacks and signals each completed
// save.
type countingListener struct {
	mtx    sync.Mutex
	before int
	after  int
	errs   []error
	saved  chan struct{}
}

func newCountingListener() *countingListener {
	return &countingListener{saved: make(chan struct{}, 16)}
}

func (l *countingListener) OnBeforeAutoSave(path string) {
	l.mtx.Lock()
	l.before++
	l.mtx.Unlock()
}

func (l *countingListener) OnAfterAutoSave(path string, err error) {
	l.mtx.Lock()
	l.after++
	l.errs = append(l.errs, err)
	l.mtx.Unlock()
	l.saved <- struct{}{}
}

func (l *countingListener) saves(t *testing.T) int {
	t.Helper()

	l.mtx.Lock()
	defer l.mtx.Unlock()
	require.Equal(t, l.before, l.after)
	return l.after
}

func (l *countingListener) waitForSave(t *testing.T) {
	t.Helper()

	select {
	case <-l.saved:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for autosave")
	}
}

// installTestClock replaces the autosave clock for the duration of the test.
// The returned channel signals each TickAfter registration so tests can wait
// for the autosave goroutine to arm its timer before advancing the clock.
func installTestClock(t *testing.T) (*clock.TestClock, chan time.Duration) {
	t.Helper()

	ticks := make(chan time.Duration, 16)
	testClock := clock.NewTestClockWithTickSignal(time.Unix(1000, 0), ticks)
	restore := newAutosaveClock
	newAutosaveClock = func() clock.Clock { return testClock }
	t.Cleanup(func() { newAutosaveClock = restore })
	return testClock, ticks
}

// waitForTick waits for the autosave goroutine to register its debounce
// timer with the test clock.
func waitForTick(t *testing.T, ticks chan time.Duration) {
	t.Helper()

	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for autosave timer registration")
	}
}

func TestAutosaveCoalesces(t *testing.T) {
	testClock, ticks := installTestClock(t)

	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin}, true))

	path := filepath.Join(t.TempDir(), "wallet.dat")
	listener := newCountingListener()
	_, err := w.AutosaveToFile(path, time.Minute, listener, nil)
	require.NoError(t, err)

	// A burst of save requests inside the debounce window must collapse
	// into a single write.
	for i := 0; i < 5; i++ {
		require.NoError(t, w.SaveLater())
	}
	waitForTick(t, ticks)
	testClock.SetTime(testClock.Now().Add(time.Minute))
	listener.waitForSave(t)
	require.Equal(t, 1, listener.saves(t))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, []CurrencyID{Bitcoin}, loaded.CurrencyIDs())

	require.NoError(t, w.ShutdownAutosaveAndWait())
	require.Equal(t, 1, listener.saves(t))
}

func TestAutosaveShutdownFlushesPending(t *testing.T) {
	installTestClock(t)

	w := testWallet(t)
	path := filepath.Join(t.TempDir(), "wallet.dat")
	listener := newCountingListener()
	_, err := w.AutosaveToFile(path, time.Minute, listener, nil)
	require.NoError(t, err)

	// Request a save but never let the debounce window elapse; shutdown
	// must still write the pending state.
	require.NoError(t, w.SaveLater())
	require.NoError(t, w.ShutdownAutosaveAndWait())
	require.Equal(t, 1, listener.saves(t))

	_, err = LoadFromFile(path)
	require.NoError(t, err)
}

func TestAutosaveZeroDelayIsSynchronous(t *testing.T) {
	w := testWallet(t)
	path := filepath.Join(t.TempDir(), "wallet.dat")
	listener := newCountingListener()
	_, err := w.AutosaveToFile(path, 0, listener, nil)
	require.NoError(t, err)

	// With no delay the save completes before SaveLater returns.
	require.NoError(t, w.SaveLater())
	require.Equal(t, 1, listener.saves(t))
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, w.SaveNow())
	require.Equal(t, 2, listener.saves(t))

	require.NoError(t, w.ShutdownAutosaveAndWait())
}

func TestAutosaveRenameFailureKeepsOldFile(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin}, true))

	path := filepath.Join(t.TempDir(), "wallet.dat")
	_, err := w.AutosaveToFile(path, 0, nil, nil)
	require.NoError(t, err)
	require.NoError(t, w.SaveNow())

	// Simulate a crash between writing the temporary file and moving it
	// into place.
	restore := renameFile
	renameFile = func(oldpath, newpath string) error {
		return errors.New("disk gone")
	}
	t.Cleanup(func() { renameFile = restore })

	require.NoError(t, w.CreatePockets([]CurrencyID{Litecoin}, true))
	err = w.SaveNow()
	require.True(t, IsError(err, ErrIO))

	// The previous snapshot must remain intact and loadable.
	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, []CurrencyID{Bitcoin}, loaded.CurrencyIDs())

	require.NoError(t, w.ShutdownAutosaveAndWait())
}

func TestAutosaveErrorSink(t *testing.T) {
	testClock, ticks := installTestClock(t)

	restore := renameFile
	renameFile = func(oldpath, newpath string) error {
		return errors.New("disk gone")
	}
	t.Cleanup(func() { renameFile = restore })

	w := testWallet(t)
	path := filepath.Join(t.TempDir(), "wallet.dat")
	sink := make(chan error, 1)
	_, err := w.AutosaveToFile(path, time.Minute, nil, func(err error) {
		sink <- err
	})
	require.NoError(t, err)

	require.NoError(t, w.SaveLater())
	waitForTick(t, ticks)
	testClock.SetTime(testClock.Now().Add(time.Minute))

	select {
	case err := <-sink:
		require.True(t, IsError(err, ErrIO))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for autosave error")
	}

	require.NoError(t, w.ShutdownAutosaveAndWait())
}

func TestConcurrentSavesSerialized(t *testing.T) {
	w := testWallet(t)
	require.NoError(t, w.CreatePockets([]CurrencyID{Bitcoin}, true))

	path := filepath.Join(t.TempDir(), "wallet.dat")
	listener := newCountingListener()
	_, err := w.AutosaveToFile(path, 0, listener, nil)
	require.NoError(t, err)

	// Widen the window between writing the temporary file and moving it
	// into place.  Writers share the temporary file, so any interleaving
	// here would rename a file out from under another writer.
	restore := renameFile
	renameFile = func(oldpath, newpath string) error {
		time.Sleep(5 * time.Millisecond)
		return os.Rename(oldpath, newpath)
	}
	t.Cleanup(func() { renameFile = restore })

	const savers = 8
	errs := make([]error, savers)
	var wg sync.WaitGroup
	wg.Add(savers)
	for i := 0; i < savers; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = w.SaveNow()
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "save %d failed", i)
	}
	require.Equal(t, savers, listener.saves(t))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, []CurrencyID{Bitcoin}, loaded.CurrencyIDs())

	require.NoError(t, w.ShutdownAutosaveAndWait())
}

func TestAutosaveAttachErrors(t *testing.T) {
	w := testWallet(t)
	path := filepath.Join(t.TempDir(), "wallet.dat")

	require.True(t, IsError(w.ShutdownAutosaveAndWait(), ErrNotAutosaving))

	_, err := w.AutosaveToFile(path, 0, nil, nil)
	require.NoError(t, err)

	_, err = w.AutosaveToFile(path, 0, nil, nil)
	require.True(t, IsError(err, ErrAlreadyAutosaving))

	require.NoError(t, w.ShutdownAutosaveAndWait())
	require.True(t, IsError(w.ShutdownAutosaveAndWait(), ErrNotAutosaving))
}
