package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// newAutosaveClock is a function var so tests can install a mock clock and
// drive the debounce window deterministically.
var newAutosaveClock = func() clock.Clock {
	return clock.NewDefaultClock()
}

// AutosaveListener is notified around every wallet save.  Both callbacks run
// on the goroutine performing the save while it holds the save lock, so
// implementations must not call back into the file manager.
type AutosaveListener interface {
	// OnBeforeAutoSave is called immediately before a save is attempted.
	OnBeforeAutoSave(path string)

	// OnAfterAutoSave is called once the save finished, with the error it
	// produced, if any.
	OnAfterAutoSave(path string, err error)
}

// FileManager persists a wallet to a single file, coalescing bursts of
// save requests into one write.  A SaveLater call arms a debounce window;
// any further requests inside the window ride along with the eventual
// write.  With a zero delay every request is written through synchronously.
type FileManager struct {
	wallet   *Wallet
	path     string
	delay    time.Duration
	listener AutosaveListener
	errSink  func(error)
	clk      clock.Clock

	// saveMtx serializes writes to the destination file.  Synchronous
	// saves can arrive from any goroutine and must not interleave with
	// each other or with the autosave goroutine, since they share the
	// same temporary file.
	saveMtx sync.Mutex

	trigger chan struct{} // cap 1, pending-save flag
	quit    chan struct{}
	wg      sync.WaitGroup
}

// AutosaveToFile starts persisting the wallet to the passed path.  Changes
// reported through SaveLater are written after at most the passed delay; a
// zero delay makes every save synchronous.  The listener may be nil.  Errors
// from background saves are delivered to errSink when set and logged
// otherwise.  A wallet can only autosave to one file at a time, so this fails
// with ErrAlreadyAutosaving when a manager is already attached.
func (w *Wallet) AutosaveToFile(path string, delay time.Duration,
	listener AutosaveListener, errSink func(error)) (*FileManager, error) {

	w.mtx.Lock()
	defer w.mtx.Unlock()

	if w.fileManager != nil {
		str := fmt.Sprintf("wallet is already autosaving to %s",
			w.fileManager.path)
		return nil, walletError(ErrAlreadyAutosaving, str, nil)
	}

	fm := &FileManager{
		wallet:   w,
		path:     path,
		delay:    delay,
		listener: listener,
		errSink:  errSink,
		clk:      newAutosaveClock(),
		trigger:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	if delay > 0 {
		fm.wg.Add(1)
		go fm.autosaveLoop()
	}
	w.fileManager = fm

	log.Infof("Autosaving wallet to %s (delay %v)", path, delay)
	return fm, nil
}

// SaveLater requests a debounced save through the attached file manager.
// Without one it is a no-op.  With a zero-delay manager the save happens
// synchronously and its error is returned.
func (w *Wallet) SaveLater() error {
	w.mtx.Lock()
	fm := w.fileManager
	w.mtx.Unlock()

	if fm == nil {
		return nil
	}
	return fm.SaveLater()
}

// SaveNow writes the wallet through the attached file manager immediately.
// Without one it is a no-op.
func (w *Wallet) SaveNow() error {
	w.mtx.Lock()
	fm := w.fileManager
	w.mtx.Unlock()

	if fm == nil {
		return nil
	}
	return fm.SaveNow()
}

// ShutdownAutosaveAndWait detaches the file manager, flushes any pending
// save and blocks until the autosave goroutine has exited.  It fails with
// ErrNotAutosaving when no manager is attached.
func (w *Wallet) ShutdownAutosaveAndWait() error {
	w.mtx.Lock()
	fm := w.fileManager
	w.fileManager = nil
	w.mtx.Unlock()

	if fm == nil {
		return walletError(ErrNotAutosaving,
			"wallet is not autosaving", nil)
	}
	fm.shutdown()
	return nil
}

// Path returns the file the manager persists the wallet to.
func (fm *FileManager) Path() string {
	return fm.path
}

// SaveLater schedules a save at the end of the debounce window, coalescing
// with any already pending request.  With a zero delay the save is performed
// inline.
func (fm *FileManager) SaveLater() error {
	if fm.delay == 0 {
		return fm.SaveNow()
	}

	select {
	case fm.trigger <- struct{}{}:
	default:
		// A save is already pending; this change rides along.
	}
	return nil
}

// SaveNow writes the wallet snapshot immediately, wrapped in the listener
// callbacks.
func (fm *FileManager) SaveNow() error {
	fm.saveMtx.Lock()
	defer fm.saveMtx.Unlock()

	if fm.listener != nil {
		fm.listener.OnBeforeAutoSave(fm.path)
	}
	err := fm.wallet.saveToFile(fm.path)
	if fm.listener != nil {
		fm.listener.OnAfterAutoSave(fm.path, err)
	}
	return err
}

// shutdown stops the autosave goroutine and waits for it to flush any
// pending save.  Zero-delay managers have no goroutine, so only the pending
// flag needs checking.
func (fm *FileManager) shutdown() {
	close(fm.quit)
	fm.wg.Wait()

	if fm.delay == 0 {
		return
	}
	log.Infof("Stopped autosaving wallet to %s", fm.path)
}

// autosaveLoop waits for save requests, lets the debounce window coalesce
// any burst that follows, and writes once per burst.  On shutdown a pending
// request is flushed before exiting.
func (fm *FileManager) autosaveLoop() {
	defer fm.wg.Done()

	for {
		select {
		case <-fm.trigger:
			select {
			case <-fm.clk.TickAfter(fm.delay):
			case <-fm.quit:
				fm.save()
				return
			}
			// Requests made during the window ride along with
			// this write.
			select {
			case <-fm.trigger:
			default:
			}
			fm.save()

		case <-fm.quit:
			select {
			case <-fm.trigger:
				fm.save()
			default:
			}
			return
		}
	}
}

// save performs a background write and routes its error to the error sink,
// falling back to the package log.
func (fm *FileManager) save() {
	if err := fm.SaveNow(); err != nil {
		if fm.errSink != nil {
			fm.errSink(err)
			return
		}
		log.Errorf("Failed to autosave wallet to %s: %v", fm.path, err)
	}
}
