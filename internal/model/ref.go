package model

import "sync/atomic"

// Ref is a swappable reference to the loaded network. The server loads
// the artifact into a Ref at startup and may reload it later (SIGHUP);
// readers always see a consistent snapshot and never block a swap.
type Ref struct {
	net atomic.Pointer[Network]
}

// NewRef returns an empty reference. Get on an empty Ref reports
// ErrUnavailable, which the prediction pipeline surfaces as a 503.
func NewRef() *Ref {
	return &Ref{}
}

// Get returns the current network snapshot.
func (r *Ref) Get() (*Network, error) {
	net := r.net.Load()
	if net == nil {
		return nil, ErrUnavailable
	}
	return net, nil
}

// Set atomically swaps in a newly loaded network.
func (r *Ref) Set(net *Network) {
	r.net.Store(net)
}

// Reload loads the artifact at path and swaps it in. On failure the
// previous network, if any, stays active.
func (r *Ref) Reload(path string) error {
	net, err := Load(path)
	if err != nil {
		return err
	}
	r.net.Store(net)
	return nil
}
