package can

import "testing"

func BenchmarkEncodeDecodeElement(b *testing.B) {
	f := Frame{ID: 0x10000096, Extended: true, FD: true, BRS: true, Len: 64}
	for i := range f.Data {
		f.Data[i] = byte(i)
	}
	var el [ElementSize]byte
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := EncodeRxElement(el[:], f, uint16(i)); err != nil {
			b.Fatal(err)
		}
		if _, err := DecodeRxElement(el[:]); err != nil {
			b.Fatal(err)
		}
	}
}
