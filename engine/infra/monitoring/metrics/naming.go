package metrics

import "strings"

const prefix = "ragrouter_"

// MetricName prefixes name unless it already carries the prefix.
func MetricName(name string) string {
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

func MetricNameWithSubsystem(subsystem, name string) string {
	if strings.HasPrefix(name, prefix) {
		return name
	}
	subsystem = strings.Trim(subsystem, "_")
	switch {
	case subsystem == "":
		return MetricName(name)
	case name == "":
		return prefix + subsystem
	default:
		return prefix + subsystem + "_" + name
	}
}
