package fleet

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/meshwork-labs/meshd/internal/agent"
	"github.com/meshwork-labs/meshd/internal/skill"
)

// Capability names the catalog binds to skills.
const (
	CapCodeScan      = "code-scan"
	CapSecretAudit   = "secret-audit"
	CapSystemMetrics = "system-metrics"
	CapPatch         = "patch"
)

// row is one catalog entry before expansion into a TypeSpec.
type row struct {
	typ   string
	desc  string
	caps  map[string]string
	every time.Duration
	tags  []string
}

var (
	scanOnly = map[string]string{CapCodeScan: skill.NameCodeScan}
	secOnly  = map[string]string{CapSecretAudit: skill.NameSecretScan}
	sysOnly  = map[string]string{CapSystemMetrics: skill.NameSysMetrics}

	scanAndSec = map[string]string{
		CapCodeScan:    skill.NameCodeScan,
		CapSecretAudit: skill.NameSecretScan,
	}
	scanAndPatch = map[string]string{
		CapCodeScan: skill.NameCodeScan,
		CapPatch:    skill.NamePatch,
	}
	sysAndScan = map[string]string{
		CapSystemMetrics: skill.NameSysMetrics,
		CapCodeScan:      skill.NameCodeScan,
	}
)

// catalog is the full autonomy fleet. Every row binds its capabilities
// to one of the shared skills; differentiation lives in the scan
// patterns and cadence, not in per-type control flow.
var catalog = []row{
	// Quality and maintenance.
	{typ: "BugPredictorAgent", desc: "flags code regions with historical defect markers", caps: scanOnly, tags: []string{"quality"}},
	{typ: "CodeQualityAgent", desc: "sweeps for quality anti-patterns", caps: scanOnly, tags: []string{"quality"}},
	{typ: "DeadCodeAgent", desc: "hunts for unreachable and commented-out code", caps: scanOnly, tags: []string{"quality"}},
	{typ: "DuplicationAgent", desc: "detects copy-pasted blocks", caps: scanOnly, tags: []string{"quality"}},
	{typ: "ErrorHandlingAgent", desc: "finds swallowed errors and bare recovers", caps: scanOnly, tags: []string{"quality"}},
	{typ: "LintSweepAgent", desc: "applies lint-style pattern checks", caps: scanOnly, tags: []string{"quality"}},
	{typ: "TodoTrackerAgent", desc: "inventories TODO and FIXME markers", caps: scanOnly, every: 10 * time.Minute, tags: []string{"quality"}},
	{typ: "TechDebtAgent", desc: "scores accumulating debt markers", caps: scanOnly, tags: []string{"quality"}},
	{typ: "StyleDriftAgent", desc: "watches for style guide violations", caps: scanOnly, tags: []string{"quality"}},
	{typ: "NamingConventionAgent", desc: "checks identifier naming patterns", caps: scanOnly, tags: []string{"quality"}},
	{typ: "ComplexityWatchAgent", desc: "flags deeply nested and oversized functions", caps: scanOnly, tags: []string{"quality"}},
	{typ: "CommentRotAgent", desc: "finds stale and contradictory comments", caps: scanOnly, tags: []string{"quality"}},
	{typ: "ImportHygieneAgent", desc: "audits import grouping and unused imports", caps: scanOnly, tags: []string{"quality"}},
	{typ: "DocCoverageAgent", desc: "measures exported symbols lacking docs", caps: scanOnly, tags: []string{"quality", "docs"}},
	{typ: "ChangelogAgent", desc: "verifies changelog entries track releases", caps: scanOnly, tags: []string{"docs"}},
	{typ: "ReadmeAuditAgent", desc: "checks README sections against conventions", caps: scanOnly, tags: []string{"docs"}},
	{typ: "ApiSurfaceAgent", desc: "tracks growth of the exported API surface", caps: scanOnly, tags: []string{"quality"}},
	{typ: "DeprecationAgent", desc: "finds usage of deprecated interfaces", caps: scanOnly, tags: []string{"maintenance"}},
	{typ: "UpgradeAdvisorAgent", desc: "spots pinned versions overdue for upgrade", caps: scanOnly, tags: []string{"maintenance"}},
	{typ: "RefactorScoutAgent", desc: "nominates refactor candidates", caps: scanOnly, tags: []string{"maintenance"}},

	// Testing and CI.
	{typ: "TestCoverageAgent", desc: "finds packages without test files", caps: scanOnly, tags: []string{"testing"}},
	{typ: "TestFlakinessAgent", desc: "flags sleep-based and time-sensitive tests", caps: scanOnly, tags: []string{"testing"}},
	{typ: "RegressionWatchAgent", desc: "watches for reverted fix markers", caps: scanOnly, tags: []string{"testing"}},
	{typ: "AssertionAuditAgent", desc: "finds tests without assertions", caps: scanOnly, tags: []string{"testing"}},
	{typ: "BuildHealthAgent", desc: "audits build files for drift", caps: scanOnly, tags: []string{"ci"}},
	{typ: "CiDoctorAgent", desc: "checks pipeline definitions for known bad patterns", caps: scanOnly, tags: []string{"ci"}},
	{typ: "ReleaseReadinessAgent", desc: "verifies release checklist markers", caps: scanOnly, tags: []string{"ci"}},
	{typ: "ArtifactAuditAgent", desc: "audits packaging manifests", caps: scanOnly, tags: []string{"ci"}},

	// Security and compliance.
	{typ: "SecretLeakAgent", desc: "scans for leaked credentials", caps: secOnly, every: 15 * time.Minute, tags: []string{"security"}},
	{typ: "CredentialRotationAgent", desc: "flags long-lived credential references", caps: scanAndSec, tags: []string{"security"}},
	{typ: "VulnerabilityScanAgent", desc: "matches known-vulnerable usage patterns", caps: scanAndSec, tags: []string{"security"}},
	{typ: "PermissionAuditAgent", desc: "audits file mode and privilege patterns", caps: scanOnly, tags: []string{"security"}},
	{typ: "ComplianceAgent", desc: "verifies policy markers across the tree", caps: scanAndSec, tags: []string{"security"}},
	{typ: "SupplyChainAgent", desc: "audits dependency declarations", caps: scanAndSec, tags: []string{"security"}},
	{typ: "CryptoUsageAgent", desc: "flags weak crypto primitive usage", caps: scanOnly, tags: []string{"security"}},
	{typ: "InputValidationAgent", desc: "finds unvalidated external input sinks", caps: scanOnly, tags: []string{"security"}},
	{typ: "SecurityHeaderAgent", desc: "checks HTTP handler security header usage", caps: scanOnly, tags: []string{"security"}},
	{typ: "AuthFlowAgent", desc: "audits authentication code paths", caps: scanAndSec, tags: []string{"security"}},

	// Performance and host health.
	{typ: "PerfProfileAgent", desc: "samples host performance counters", caps: sysOnly, every: time.Minute, tags: []string{"performance"}},
	{typ: "MemoryWatchAgent", desc: "tracks memory pressure", caps: sysOnly, every: time.Minute, tags: []string{"performance"}},
	{typ: "CpuWatchAgent", desc: "tracks CPU saturation", caps: sysOnly, every: time.Minute, tags: []string{"performance"}},
	{typ: "DiskUsageAgent", desc: "tracks filesystem headroom", caps: sysOnly, every: 5 * time.Minute, tags: []string{"performance"}},
	{typ: "LoadMonitorAgent", desc: "tracks load averages", caps: sysOnly, every: time.Minute, tags: []string{"performance"}},
	{typ: "ProcessCensusAgent", desc: "counts host processes", caps: sysOnly, every: 5 * time.Minute, tags: []string{"performance"}},
	{typ: "ResourceLeakAgent", desc: "correlates host metrics with leak patterns", caps: sysAndScan, tags: []string{"performance"}},
	{typ: "CapacityPlannerAgent", desc: "trends resource usage for planning", caps: sysOnly, every: 10 * time.Minute, tags: []string{"performance"}},
	{typ: "LatencyWatchAgent", desc: "flags blocking calls on hot paths", caps: sysAndScan, tags: []string{"performance"}},
	{typ: "ThroughputAgent", desc: "tracks throughput-relevant host counters", caps: sysOnly, every: time.Minute, tags: []string{"performance"}},

	// Operations.
	{typ: "LogHygieneAgent", desc: "audits logging call sites", caps: scanOnly, tags: []string{"ops"}},
	{typ: "ConfigDriftAgent", desc: "detects drift between config files", caps: scanOnly, tags: []string{"ops"}},
	{typ: "EnvParityAgent", desc: "checks environment variable references", caps: scanOnly, tags: []string{"ops"}},
	{typ: "MigrationWatchAgent", desc: "audits pending migration markers", caps: scanOnly, tags: []string{"ops"}},
	{typ: "SchemaDriftAgent", desc: "watches schema definitions for drift", caps: scanOnly, tags: []string{"ops"}},
	{typ: "AlertRuleAgent", desc: "audits alerting rule definitions", caps: scanOnly, tags: []string{"ops"}},
	{typ: "RunbookAgent", desc: "verifies runbooks reference live systems", caps: scanOnly, tags: []string{"ops", "docs"}},
	{typ: "DockerfileAuditAgent", desc: "audits container build files", caps: scanAndSec, tags: []string{"ops"}},
	{typ: "IacAuditAgent", desc: "audits infrastructure-as-code templates", caps: scanAndSec, tags: []string{"ops"}},
	{typ: "ManifestAuditAgent", desc: "audits deployment manifests", caps: scanOnly, tags: []string{"ops"}},
	{typ: "NetworkPolicyAgent", desc: "audits network policy declarations", caps: scanOnly, tags: []string{"ops"}},
	{typ: "BackupRecoveryAgent", desc: "verifies backup and recovery markers", caps: sysAndScan, every: 30 * time.Minute, tags: []string{"ops"}},

	// Self-healing.
	{typ: "SelfHealAgent", desc: "applies pre-approved literal fixes", caps: scanAndPatch, tags: []string{"healing"}},
	{typ: "PatchApplierAgent", desc: "executes requested string replacements", caps: scanAndPatch, tags: []string{"healing"}},
	{typ: "RollbackAgent", desc: "restores files from backups on request", caps: scanAndPatch, tags: []string{"healing"}},
	{typ: "HotfixAgent", desc: "fast-path patch application", caps: scanAndPatch, tags: []string{"healing"}},
	{typ: "CleanupAgent", desc: "removes known debris patterns", caps: scanAndPatch, tags: []string{"healing"}},
	{typ: "FormattingAgent", desc: "normalizes formatting markers", caps: scanAndPatch, tags: []string{"healing"}},
	{typ: "WhitespaceAgent", desc: "normalizes trailing whitespace", caps: scanAndPatch, tags: []string{"healing"}},

	// Content and misc.
	{typ: "I18nAuditAgent", desc: "finds hardcoded user-facing strings", caps: scanOnly, tags: []string{"content"}},
	{typ: "AccessibilityAgent", desc: "audits templates for accessibility markers", caps: scanOnly, tags: []string{"content"}},
	{typ: "SeoAuditAgent", desc: "audits page metadata", caps: scanOnly, tags: []string{"content"}},
	{typ: "AssetAuditAgent", desc: "inventories oversized static assets", caps: scanOnly, tags: []string{"content"}},
	{typ: "LicenseAuditAgent", desc: "verifies license headers and notices", caps: scanOnly, tags: []string{"content", "security"}},
}

// Catalog expands the fleet table into registerable TypeSpecs.
func Catalog() []agent.TypeSpec {
	specs := make([]agent.TypeSpec, 0, len(catalog))
	for _, r := range catalog {
		caps := make([]string, 0, len(r.caps))
		for cap := range r.caps {
			caps = append(caps, cap)
		}
		sort.Strings(caps)
		specs = append(specs, agent.TypeSpec{
			Type:          r.typ,
			ID:            meshID(r.typ),
			Description:   r.desc,
			Capabilities:  caps,
			SkillBindings: r.caps,
			CycleInterval: r.every,
			Tags:          r.tags,
		})
	}
	return specs
}

// DefaultRegistry returns a TypeRegistry loaded with the full catalog.
func DefaultRegistry() (*agent.TypeRegistry, error) {
	reg := agent.NewTypeRegistry()
	for _, spec := range Catalog() {
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// meshID converts a CamelCase type name into the kebab-case mesh
// identity, dropping the Agent suffix: "BugPredictorAgent" becomes
// "bug-predictor".
func meshID(typeName string) string {
	name := strings.TrimSuffix(typeName, "Agent")
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
