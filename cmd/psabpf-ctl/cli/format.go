package cli

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/frobware/go-psabpf/layout"
	"github.com/frobware/go-psabpf/pre"
	"github.com/frobware/go-psabpf/register"
)

type cloneEntryJSON struct {
	EgressPort     uint32 `json:"egress_port"`
	Instance       uint16 `json:"instance"`
	ClassOfService uint8  `json:"class_of_service"`
	Truncate       bool   `json:"truncate"`
	TruncateLength uint16 `json:"truncate_length,omitempty"`
}

type cloneSessionJSON struct {
	ID      uint32           `json:"id"`
	Entries []cloneEntryJSON `json:"entries"`
}

type multicastGroupJSON struct {
	ID      uint32                     `json:"id"`
	Members []pre.MulticastGroupMember `json:"members"`
}

func marshal(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

// table renders rows under header, each column padded to its widest
// cell. The last column is not padded.
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for _, row := range append([][]string{header}, rows...) {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var b strings.Builder
	for _, row := range append([][]string{header}, rows...) {
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatCloneSessions formats clone sessions according to the output flags.
func FormatCloneSessions(sessions []pre.CloneSession, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		out := struct {
			CloneSessions []cloneSessionJSON `json:"clone_sessions"`
		}{CloneSessions: []cloneSessionJSON{}}
		for _, s := range sessions {
			js := cloneSessionJSON{ID: uint32(s.ID), Entries: []cloneEntryJSON{}}
			for _, e := range s.Entries {
				js.Entries = append(js.Entries, cloneEntryJSON{
					EgressPort:     e.EgressPort,
					Instance:       e.Instance,
					ClassOfService: e.ClassOfService,
					Truncate:       e.Truncated(),
					TruncateLength: e.TruncateLength(),
				})
			}
			out.CloneSessions = append(out.CloneSessions, js)
		}
		return marshal(out)
	}

	if len(sessions) == 0 {
		return "No clone sessions found\n", nil
	}

	var rows [][]string
	for _, s := range sessions {
		if len(s.Entries) == 0 {
			rows = append(rows, []string{fmt.Sprint(s.ID), "-", "-", "-", "-"})
			continue
		}
		for _, e := range s.Entries {
			truncate := "-"
			if e.Truncated() {
				truncate = fmt.Sprint(e.TruncateLength())
			}
			rows = append(rows, []string{
				fmt.Sprint(s.ID),
				fmt.Sprint(e.EgressPort),
				fmt.Sprint(e.Instance),
				fmt.Sprint(e.ClassOfService),
				truncate,
			})
		}
	}
	return table([]string{"SESSION", "EGRESS-PORT", "INSTANCE", "COS", "TRUNCATE"}, rows), nil
}

// FormatMulticastGroups formats multicast groups according to the output flags.
func FormatMulticastGroups(groups []pre.MulticastGroup, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		out := struct {
			MulticastGroups []multicastGroupJSON `json:"multicast_groups"`
		}{MulticastGroups: []multicastGroupJSON{}}
		for _, g := range groups {
			members := g.Members
			if members == nil {
				members = []pre.MulticastGroupMember{}
			}
			out.MulticastGroups = append(out.MulticastGroups, multicastGroupJSON{ID: uint32(g.ID), Members: members})
		}
		return marshal(out)
	}

	if len(groups) == 0 {
		return "No multicast groups found\n", nil
	}

	var rows [][]string
	for _, g := range groups {
		if len(g.Members) == 0 {
			rows = append(rows, []string{fmt.Sprint(g.ID), "-", "-"})
			continue
		}
		for _, m := range g.Members {
			rows = append(rows, []string{fmt.Sprint(g.ID), fmt.Sprint(m.EgressPort), fmt.Sprint(m.Instance)})
		}
	}
	return table([]string{"GROUP", "EGRESS-PORT", "INSTANCE"}, rows), nil
}

// viewJSON renders a field as a JSON number or boolean where it has
// one, and as its string form otherwise.
func viewJSON(v layout.View) any {
	switch v.Kind {
	case layout.KindBool:
		if len(v.Data) == 1 {
			return v.Data[0] != 0
		}
	case layout.KindInteger, layout.KindEnum:
		if n, ok := v.Uint(); ok {
			return n
		}
	}
	return v.String()
}

func fieldsJSON(views iter.Seq[layout.View]) map[string]any {
	m := map[string]any{}
	for v := range views {
		m[v.Name] = viewJSON(v)
	}
	return m
}

func fieldsText(views iter.Seq[layout.View]) string {
	var parts []string
	for v := range views {
		parts = append(parts, v.Name+"="+v.String())
	}
	return strings.Join(parts, " ")
}

// FormatRegister formats register cells according to the output flags.
func FormatRegister(name string, entries []*register.Entry, flags *OutputFlags) (string, error) {
	if flags.Format() == OutputFormatJSON {
		cells := []map[string]any{}
		for _, e := range entries {
			cells = append(cells, map[string]any{
				"key":   fieldsJSON(e.KeyFields()),
				"value": fieldsJSON(e.Fields()),
			})
		}
		return marshal(map[string]any{name: cells})
	}

	if len(entries) == 0 {
		return fmt.Sprintf("Register %s is empty\n", name), nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{fieldsText(e.KeyFields()), fieldsText(e.Fields())})
	}
	return table([]string{"KEY", "VALUE"}, rows), nil
}
