package packet

import "github.com/mudnet/i3-gateway/internal/lpc"

// Mudlist is the router's mud directory delta: mapping of mud name to an
// info array, or to 0 for muds that went away. The state store interprets
// the rows; the packet keeps them raw.
type Mudlist struct {
	Header
	MudlistID int
	Muds      lpc.Mapping
}

func (p *Mudlist) payload() lpc.Array {
	muds := p.Muds
	if muds == nil {
		muds = lpc.Mapping{}
	}
	return lpc.Array{lpc.Int(p.MudlistID), muds}
}

func (p *Mudlist) parse(body lpc.Array) error {
	p.MudlistID = lpc.IntOr(at(body, 0), 0)
	if m, ok := at(body, 1).(lpc.Mapping); ok {
		p.Muds = m
	} else {
		p.Muds = lpc.Mapping{}
	}
	return nil
}

// StartupReq3 is the version-3 handshake sent after the TCP connect.
type StartupReq3 struct {
	Header
	Password      int
	OldMudlistID  int
	OldChanlistID int
	PlayerPort    int
	TCPPort       int
	UDPPort       int
	Mudlib        string
	BaseMudlib    string
	Driver        string
	MudType       string
	OpenStatus    string
	AdminEmail    string
	Services      lpc.Mapping
	OtherData     lpc.Value
}

func (p *StartupReq3) payload() lpc.Array {
	services := p.Services
	if services == nil {
		services = lpc.Mapping{}
	}
	other := p.OtherData
	if other == nil {
		other = lpc.Int(0)
	}
	return lpc.Array{
		lpc.Int(p.Password),
		lpc.Int(p.OldMudlistID),
		lpc.Int(p.OldChanlistID),
		lpc.Int(p.PlayerPort),
		lpc.Int(p.TCPPort),
		lpc.Int(p.UDPPort),
		lpc.Str(p.Mudlib),
		lpc.Str(p.BaseMudlib),
		lpc.Str(p.Driver),
		lpc.Str(p.MudType),
		lpc.Str(p.OpenStatus),
		lpc.Str(p.AdminEmail),
		services,
		other,
	}
}

func (p *StartupReq3) parse(body lpc.Array) error {
	p.Password = lpc.IntOr(at(body, 0), 0)
	p.OldMudlistID = lpc.IntOr(at(body, 1), 0)
	p.OldChanlistID = lpc.IntOr(at(body, 2), 0)
	p.PlayerPort = lpc.IntOr(at(body, 3), 0)
	p.TCPPort = lpc.IntOr(at(body, 4), 0)
	p.UDPPort = lpc.IntOr(at(body, 5), 0)
	p.Mudlib = lpc.StringOr(at(body, 6), "")
	p.BaseMudlib = lpc.StringOr(at(body, 7), "")
	p.Driver = lpc.StringOr(at(body, 8), "")
	p.MudType = lpc.StringOr(at(body, 9), "")
	p.OpenStatus = lpc.StringOr(at(body, 10), "")
	p.AdminEmail = lpc.StringOr(at(body, 11), "")
	if m, ok := at(body, 12).(lpc.Mapping); ok {
		p.Services = m
	} else {
		p.Services = lpc.Mapping{}
	}
	p.OtherData = at(body, 13)
	if p.OtherData == nil {
		p.OtherData = lpc.Int(0)
	}
	return nil
}

// StartupReply acknowledges the handshake and carries the authoritative
// router list plus the password to present on the next startup.
type StartupReply struct {
	Header
	RouterList lpc.Array
	Password   int
}

func (p *StartupReply) payload() lpc.Array {
	routers := p.RouterList
	if routers == nil {
		routers = lpc.Array{}
	}
	return lpc.Array{routers, lpc.Int(p.Password)}
}

func (p *StartupReply) parse(body lpc.Array) error {
	if arr, ok := at(body, 0).(lpc.Array); ok {
		p.RouterList = arr
	} else {
		p.RouterList = lpc.Array{}
	}
	p.Password = lpc.IntOr(at(body, 1), 0)
	return nil
}

// Error is the I3 error packet. BadPacket preserves the offending packet
// for the originator's diagnostics.
type Error struct {
	Header
	Code      string
	Message   string
	BadPacket lpc.Value
}

func (p *Error) payload() lpc.Array {
	bad := p.BadPacket
	if bad == nil {
		bad = lpc.Int(0)
	}
	return lpc.Array{lpc.Str(p.Code), lpc.Str(p.Message), bad}
}

func (p *Error) parse(body lpc.Array) error {
	p.Code = lpc.StringOr(at(body, 0), "")
	p.Message = lpc.StringOr(at(body, 1), "")
	p.BadPacket = at(body, 2)
	if p.BadPacket == nil {
		p.BadPacket = lpc.Int(0)
	}
	return nil
}
