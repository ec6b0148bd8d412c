package chain

import (
	"github.com/pocketsuite/pocketwallet/wallet"
)

// BackEnds returns a list of the available back ends.
// When there are more than one backend, it should transfer
// into a driver and use dynamic registration.
func BackEnds() []string {
	return []string{
		"pocketd",
	}
}

// Interface allows more than one backing blockchain source, such as the
// pocketd RPC chain server or an SPV library, as long as we write a driver
// for it.  Every implementation also satisfies wallet.BlockchainConnection
// so it can be handed straight to the wallet on connect.
type Interface interface {
	wallet.BlockchainConnection

	Start() error
	Stop()
	WaitForShutdown()
	Notifications() <-chan interface{} // receive the notifications from the back end
	BackEnd() string
}

// Notification types.  These are defined here and processed from reading
// a notification channel to avoid handling these notifications directly in
// read-loop callbacks, which isn't very Go-like and doesn't allow
// blocking client calls.
type (
	// ClientConnected is a notification for when a client connection is
	// opened or reestablished to the chain server.
	ClientConnected struct{}

	// ClientDisconnected is a notification that the connection to the
	// chain server was lost.
	ClientDisconnected struct{}
)
