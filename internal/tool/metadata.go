package tool

import (
	"sort"
	"strings"

	"github.com/harunnryd/sitewise/internal/model/contract"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

const defaultToolSource = "runtime"

// Capability areas that imply outbound network access.
var networkAreas = map[string]bool{"web": true, "http": true}

// Capability actions that only read.
var readActions = map[string]bool{"read": true, "fetch": true, "search": true, "audit": true}

// ToolMetadata is descriptive only; it is listed by the CLI and never sent to models.
// Capabilities are "<area>.<action>" names such as "web.fetch" or "vector.write".
type ToolMetadata struct {
	Source       string
	Capabilities []string
	Risk         RiskLevel
	// Network marks tools that reach outside the process.
	Network bool
}

type MetadataProvider interface {
	ToolMetadata() ToolMetadata
}

type ToolDescriptor struct {
	Definition contract.ToolDef
	Metadata   ToolMetadata
}

// normalizeToolMetadata lowercases and dedupes capabilities, marks web capabilities as network
// access and fills in a missing risk level from what the capabilities do.
func normalizeToolMetadata(meta ToolMetadata) ToolMetadata {
	out := ToolMetadata{
		Source:       strings.ToLower(strings.TrimSpace(meta.Source)),
		Capabilities: normalizeCapabilities(meta.Capabilities),
		Network:      meta.Network,
	}
	if out.Source == "" {
		out.Source = defaultToolSource
	}

	writes := false
	for _, capability := range out.Capabilities {
		area, action := splitCapability(capability)
		if networkAreas[area] {
			out.Network = true
		}
		if !readActions[action] {
			writes = true
		}
	}

	switch risk := RiskLevel(strings.ToLower(strings.TrimSpace(string(meta.Risk)))); risk {
	case RiskLow, RiskMedium, RiskHigh:
		out.Risk = risk
	case "":
		out.Risk = inferRisk(len(out.Capabilities) > 0, writes, out.Network)
	default:
		out.Risk = RiskMedium
	}
	return out
}

func inferRisk(known, writes, network bool) RiskLevel {
	switch {
	case !known:
		return RiskMedium
	case writes && network:
		return RiskHigh
	case writes:
		return RiskMedium
	default:
		return RiskLow
	}
}

func normalizeCapabilities(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, capability := range in {
		normalized := strings.ToLower(strings.TrimSpace(capability))
		normalized = strings.Join(strings.Fields(normalized), "_")
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	return out
}

// splitCapability returns the area and action of a capability. A name without a dot is an
// action with no area.
func splitCapability(capability string) (string, string) {
	if i := strings.LastIndexByte(capability, '.'); i >= 0 {
		return capability[:i], capability[i+1:]
	}
	return "", capability
}
