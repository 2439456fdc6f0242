package packet

import "github.com/mudnet/i3-gateway/internal/lpc"

// WhoReq asks a mud for its online users, optionally filtered. Recognized
// filter keys: level_min, level_max, race, guild.
type WhoReq struct {
	Header
	Filter lpc.Mapping
}

func (p *WhoReq) payload() lpc.Array {
	f := p.Filter
	if f == nil {
		f = lpc.Mapping{}
	}
	return lpc.Array{f}
}

func (p *WhoReq) parse(body lpc.Array) error {
	if m, ok := at(body, 0).(lpc.Mapping); ok {
		p.Filter = m
	} else {
		p.Filter = lpc.Mapping{}
	}
	return nil
}

// WhoEntry is one row of a who-reply.
type WhoEntry struct {
	Name  string
	Idle  int
	Level int
	Extra string
}

// WhoReply carries the filtered user list.
type WhoReply struct {
	Header
	Users []WhoEntry
}

func (p *WhoReply) payload() lpc.Array {
	rows := lpc.Array{}
	for _, u := range p.Users {
		rows = append(rows, lpc.Array{
			lpc.Str(u.Name), lpc.Int(u.Idle), lpc.Int(u.Level), lpc.Str(u.Extra),
		})
	}
	return lpc.Array{rows}
}

func (p *WhoReply) parse(body lpc.Array) error {
	rows, ok := at(body, 0).(lpc.Array)
	if !ok {
		return nil
	}
	p.Users = make([]WhoEntry, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.(lpc.Array)
		if !ok {
			continue
		}
		p.Users = append(p.Users, WhoEntry{
			Name:  lpc.StringOr(at(fields, 0), ""),
			Idle:  lpc.IntOr(at(fields, 1), 0),
			Level: lpc.IntOr(at(fields, 2), 0),
			Extra: lpc.StringOr(at(fields, 3), ""),
		})
	}
	return nil
}

// FingerReq asks for details about one user on the target mud.
type FingerReq struct {
	Header
	User string
}

func (p *FingerReq) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.User)}
}

func (p *FingerReq) parse(body lpc.Array) error {
	p.User = lpc.StringOr(at(body, 0), "")
	return nil
}

// FingerReply carries whatever fields the target mud chose to expose.
type FingerReply struct {
	Header
	Info lpc.Mapping
}

func (p *FingerReply) payload() lpc.Array {
	info := p.Info
	if info == nil {
		info = lpc.Mapping{}
	}
	return lpc.Array{info}
}

func (p *FingerReply) parse(body lpc.Array) error {
	if m, ok := at(body, 0).(lpc.Mapping); ok {
		p.Info = m
	} else {
		p.Info = lpc.Mapping{}
	}
	return nil
}

// LocateReq searches for a user. A broadcast target mud means every mud
// checks; a direct target always answers.
type LocateReq struct {
	Header
	User string
}

func (p *LocateReq) payload() lpc.Array {
	return lpc.Array{lpc.Str(p.User)}
}

func (p *LocateReq) parse(body lpc.Array) error {
	p.User = lpc.StringOr(at(body, 0), "")
	return nil
}

// LocateReply answers a locate-req. Empty LocatedMud/LocatedUser means the
// user was not found on the replying mud.
type LocateReply struct {
	Header
	LocatedMud  string
	LocatedUser string
	IdleTime    int
	Status      string
}

func (p *LocateReply) payload() lpc.Array {
	return lpc.Array{
		lpc.Str(p.LocatedMud), lpc.Str(p.LocatedUser),
		lpc.Int(p.IdleTime), lpc.Str(p.Status),
	}
}

func (p *LocateReply) parse(body lpc.Array) error {
	p.LocatedMud = lpc.StringOr(at(body, 0), "")
	p.LocatedUser = lpc.StringOr(at(body, 1), "")
	p.IdleTime = lpc.IntOr(at(body, 2), 0)
	p.Status = lpc.StringOr(at(body, 3), "")
	return nil
}
