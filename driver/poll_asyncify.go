//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package driver

// pushBlocking handles a bare BlockingOp pushed directly (no
// ReadinessPreparer pre-submit step applies).
func (d *pollDriver) pushBlocking(op BlockingOp) (uint64, error) {
	d.mu.Lock()
	ud := d.nextUser
	d.nextUser++
	d.mu.Unlock()

	err := RunBlocking(op.Run, func(n int, err error) {
		d.mu.Lock()
		d.ready = append(d.ready, Entry{UserData: ud, N: n, Err: err})
		d.mu.Unlock()
		d.notify.Notify()
	})
	return ud, err
}

// runBlockingPreparer handles a ReadinessPreparer whose PreSubmit chose
// DecisionBlocking (e.g. a regular-file op a given backend prefers to
// offload rather than run inline).
func (d *pollDriver) runBlockingPreparer(ud uint64, rp ReadinessPreparer) (uint64, error) {
	err := RunBlocking(func() (int, error) {
		_, n, err := rp.OnEvent(Event{})
		return n, err
	}, func(n int, err error) {
		d.mu.Lock()
		d.ready = append(d.ready, Entry{UserData: ud, N: n, Err: err})
		d.mu.Unlock()
		d.notify.Notify()
	})
	return ud, err
}
