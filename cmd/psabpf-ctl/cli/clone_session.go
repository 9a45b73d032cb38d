package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/pre"
)

// CloneSessionCmd groups the clone session commands.
type CloneSessionCmd struct {
	Create    CloneSessionCreateCmd    `cmd:"" help:"Create an empty clone session."`
	Delete    CloneSessionDeleteCmd    `cmd:"" help:"Delete a clone session and all its members."`
	AddMember CloneSessionAddMemberCmd `cmd:"" name:"add-member" help:"Add or replace a clone session member."`
	DelMember CloneSessionDelMemberCmd `cmd:"" name:"del-member" help:"Remove a clone session member."`
	Get       CloneSessionGetCmd       `cmd:"" help:"Show one clone session, or all of them."`
}

func (c *CLI) openCloneSessions(ctx context.Context) (*pre.CloneSessions, error) {
	rt, err := c.NewRuntime()
	if err != nil {
		return nil, err
	}
	return pre.OpenCloneSessions(ctx, rt.Kernel, rt.Pipeline,
		pre.WithLogger(rt.Logger),
		pre.WithMapName(rt.Config.PRE.CloneSessionMap))
}

// CloneSessionCreateCmd creates a clone session.
type CloneSessionCreateCmd struct {
	Session ID `arg:"" name:"session" help:"Clone session id."`
}

// Run executes the create command.
func (c *CloneSessionCreateCmd) Run(cli *CLI, ctx context.Context) error {
	cs, err := cli.openCloneSessions(ctx)
	if err != nil {
		return err
	}
	defer cs.Close()

	return cs.Create(ctx, psabpf.SessionID(c.Session.Value))
}

// CloneSessionDeleteCmd deletes a clone session.
type CloneSessionDeleteCmd struct {
	Session ID `arg:"" name:"session" help:"Clone session id."`
}

// Run executes the delete command.
func (c *CloneSessionDeleteCmd) Run(cli *CLI, ctx context.Context) error {
	cs, err := cli.openCloneSessions(ctx)
	if err != nil {
		return err
	}
	defer cs.Close()

	return cs.Delete(ctx, psabpf.SessionID(c.Session.Value))
}

// CloneSessionAddMemberCmd adds a member to a clone session.
type CloneSessionAddMemberCmd struct {
	Session ID `arg:"" name:"session" help:"Clone session id."`
	TargetFlags
	ClassOfService uint8   `name:"cos" help:"Class of service."`
	Truncate       *uint16 `name:"truncate" help:"Truncate copies to this many bytes."`
}

// Run executes the add-member command.
func (c *CloneSessionAddMemberCmd) Run(cli *CLI, ctx context.Context) error {
	cs, err := cli.openCloneSessions(ctx)
	if err != nil {
		return err
	}
	defer cs.Close()

	entry := pre.CloneSessionEntry{
		EgressPort:     c.EgressPort.Value,
		Instance:       c.Instance,
		ClassOfService: c.ClassOfService,
	}
	if c.Truncate != nil {
		entry.EnableTruncation(*c.Truncate)
	}
	return cs.AddMember(ctx, psabpf.SessionID(c.Session.Value), entry)
}

// CloneSessionDelMemberCmd removes a member from a clone session.
type CloneSessionDelMemberCmd struct {
	Session ID `arg:"" name:"session" help:"Clone session id."`
	TargetFlags
}

// Run executes the del-member command.
func (c *CloneSessionDelMemberCmd) Run(cli *CLI, ctx context.Context) error {
	cs, err := cli.openCloneSessions(ctx)
	if err != nil {
		return err
	}
	defer cs.Close()

	return cs.DeleteMember(ctx, psabpf.SessionID(c.Session.Value), c.EgressPort.Value, c.Instance)
}

// CloneSessionGetCmd shows clone sessions.
type CloneSessionGetCmd struct {
	OutputFlags
	Session *ID `arg:"" optional:"" name:"session" help:"Clone session id; all sessions when omitted."`
}

// Run executes the get command.
func (c *CloneSessionGetCmd) Run(cli *CLI, ctx context.Context) error {
	cs, err := cli.openCloneSessions(ctx)
	if err != nil {
		return err
	}
	defer cs.Close()

	var sessions []pre.CloneSession
	if c.Session != nil {
		id := psabpf.SessionID(c.Session.Value)
		session := pre.CloneSession{ID: id, Entries: []pre.CloneSessionEntry{}}
		for entry, err := range cs.Members(ctx, id) {
			if err != nil {
				return err
			}
			session.Entries = append(session.Entries, entry)
		}
		sessions = append(sessions, session)
	} else {
		for session, err := range cs.List(ctx) {
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
	}

	output, err := FormatCloneSessions(sessions, &c.OutputFlags)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	return cli.PrintOut(output)
}
