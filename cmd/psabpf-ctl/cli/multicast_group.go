package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-psabpf"
	"github.com/frobware/go-psabpf/pre"
)

// MulticastGroupCmd groups the multicast group commands.
type MulticastGroupCmd struct {
	Create    MulticastGroupCreateCmd    `cmd:"" help:"Create an empty multicast group."`
	Delete    MulticastGroupDeleteCmd    `cmd:"" help:"Delete a multicast group and all its members."`
	AddMember MulticastGroupAddMemberCmd `cmd:"" name:"add-member" help:"Add a multicast group member."`
	DelMember MulticastGroupDelMemberCmd `cmd:"" name:"del-member" help:"Remove a multicast group member."`
	Get       MulticastGroupGetCmd       `cmd:"" help:"Show one multicast group, or all of them."`
}

func (c *CLI) openMulticastGroups(ctx context.Context) (*pre.MulticastGroups, error) {
	rt, err := c.NewRuntime()
	if err != nil {
		return nil, err
	}
	return pre.OpenMulticastGroups(ctx, rt.Kernel, rt.Pipeline,
		pre.WithLogger(rt.Logger),
		pre.WithMapName(rt.Config.PRE.MulticastGroupMap))
}

// MulticastGroupCreateCmd creates a multicast group.
type MulticastGroupCreateCmd struct {
	Group ID `arg:"" name:"group" help:"Multicast group id."`
}

// Run executes the create command.
func (c *MulticastGroupCreateCmd) Run(cli *CLI, ctx context.Context) error {
	mg, err := cli.openMulticastGroups(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Create(ctx, psabpf.GroupID(c.Group.Value))
}

// MulticastGroupDeleteCmd deletes a multicast group.
type MulticastGroupDeleteCmd struct {
	Group ID `arg:"" name:"group" help:"Multicast group id."`
}

// Run executes the delete command.
func (c *MulticastGroupDeleteCmd) Run(cli *CLI, ctx context.Context) error {
	mg, err := cli.openMulticastGroups(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.Delete(ctx, psabpf.GroupID(c.Group.Value))
}

// MulticastGroupAddMemberCmd adds a member to a multicast group.
type MulticastGroupAddMemberCmd struct {
	Group ID `arg:"" name:"group" help:"Multicast group id."`
	TargetFlags
}

// Run executes the add-member command.
func (c *MulticastGroupAddMemberCmd) Run(cli *CLI, ctx context.Context) error {
	mg, err := cli.openMulticastGroups(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.AddMember(ctx, psabpf.GroupID(c.Group.Value), pre.MulticastGroupMember{
		EgressPort: c.EgressPort.Value,
		Instance:   c.Instance,
	})
}

// MulticastGroupDelMemberCmd removes a member from a multicast group.
type MulticastGroupDelMemberCmd struct {
	Group ID `arg:"" name:"group" help:"Multicast group id."`
	TargetFlags
}

// Run executes the del-member command.
func (c *MulticastGroupDelMemberCmd) Run(cli *CLI, ctx context.Context) error {
	mg, err := cli.openMulticastGroups(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	return mg.DeleteMember(ctx, psabpf.GroupID(c.Group.Value), c.EgressPort.Value, c.Instance)
}

// MulticastGroupGetCmd shows multicast groups.
type MulticastGroupGetCmd struct {
	OutputFlags
	Group *ID `arg:"" optional:"" name:"group" help:"Multicast group id; all groups when omitted."`
}

// Run executes the get command.
func (c *MulticastGroupGetCmd) Run(cli *CLI, ctx context.Context) error {
	mg, err := cli.openMulticastGroups(ctx)
	if err != nil {
		return err
	}
	defer mg.Close()

	var groups []pre.MulticastGroup
	if c.Group != nil {
		id := psabpf.GroupID(c.Group.Value)
		group := pre.MulticastGroup{ID: id, Members: []pre.MulticastGroupMember{}}
		for member, err := range mg.Members(ctx, id) {
			if err != nil {
				return err
			}
			group.Members = append(group.Members, member)
		}
		groups = append(groups, group)
	} else {
		for group, err := range mg.List(ctx) {
			if err != nil {
				return err
			}
			groups = append(groups, group)
		}
	}

	output, err := FormatMulticastGroups(groups, &c.OutputFlags)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	return cli.PrintOut(output)
}
