package packet

import "github.com/mudnet/i3-gateway/internal/lpc"

// at returns a positional payload field or nil when the body is short.
// Routers are sloppy about trailing fields, so parsing is tolerant.
func at(body lpc.Array, i int) lpc.Value {
	if i < len(body) {
		return body[i]
	}
	return nil
}

// Tell carries both the tell and emoteto type tags; the two differ only in
// presentation on the receiving side.
type Tell struct {
	Header
	Visname string
	Message string
}

func (p *Tell) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.Visname), lpc.Str(p.Message)}
}

func (p *Tell) parse(body lpc.Array) error {
	p.Visname = lpc.StringOr(at(body, 0), "")
	p.Message = lpc.StringOr(at(body, 1), "")
	return nil
}

// Opaque preserves the raw payload of a type tag the gateway does not model,
// so routing and error replies still work.
type Opaque struct {
	Header
	Raw lpc.Array
}

func (p *Opaque) payload() lpc.Array { return p.Raw }

func (p *Opaque) parse(body lpc.Array) error {
	p.Raw = body
	return nil
}
