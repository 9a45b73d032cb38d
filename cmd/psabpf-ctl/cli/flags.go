package cli

// OutputFormat represents the output format type.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
)

// OutputFlags provides output formatting flags.
type OutputFlags struct {
	Output string `short:"o" help:"Output format: table, json." default:"table" enum:"table,json"`
}

// Format returns the selected format.
func (f *OutputFlags) Format() OutputFormat {
	if f.Output == "json" {
		return OutputFormatJSON
	}
	return OutputFormatTable
}

// TargetFlags name one replication target.
type TargetFlags struct {
	EgressPort Port   `name:"egress-port" help:"Egress port: numeric id or interface name." required:""`
	Instance   uint16 `name:"instance" help:"Egress port instance." required:""`
}
