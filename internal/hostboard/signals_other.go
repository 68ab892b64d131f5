//go:build !linux

package hostboard

func (b *Board) startEdgeSource() {}

func (b *Board) stopEdgeSource() {}

// Reset is not supported off Linux.
func (b *Board) Reset() { b.log.Error("reset_unsupported") }
