package app

import "github.com/dkeye/CamRelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(conn core.Conn, b Binding) BackpressureAction
}

// SimplePolicy kicks slow consumers. A signaling peer that cannot drain its
// queue has lost the negotiation anyway.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.Conn, Binding) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops the frame and keeps the connection.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.Conn, Binding) BackpressureAction {
	return DropFrame
}
