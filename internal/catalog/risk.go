package catalog

// Resources whose destructive or administrative actions are always critical.
var criticalResources = map[string]struct{}{
	"system":   {},
	"security": {},
	"billing":  {},
}

// Resources where write-level actions escalate to high risk.
var highRiskResources = map[string]struct{}{
	"user_management":         {},
	"organization_management": {},
}

// RiskFor classifies a resource/action pair. The table is deterministic so a
// permission's default risk never depends on creation order.
func RiskFor(resource string, action Action) RiskLevel {
	if action == ActionDelete || action == ActionManage {
		if _, ok := criticalResources[resource]; ok {
			return RiskCritical
		}
	}
	if action == ActionCreate || action == ActionUpdate || action == ActionApprove {
		if _, ok := highRiskResources[resource]; ok {
			return RiskHigh
		}
	}
	if action == ActionCreate || action == ActionUpdate || action == ActionPublish {
		return RiskMedium
	}
	return RiskLow
}

// AuditLevelFor derives the default audit detail from a risk level.
func AuditLevelFor(risk RiskLevel) AuditLevel {
	switch risk {
	case RiskCritical:
		return AuditFull
	case RiskHigh:
		return AuditDetailed
	case RiskMedium:
		return AuditBasic
	default:
		return AuditBasic
	}
}
