package server

const apiVersion = "v0"

// Base returns the versioned API base path.
func Base() string {
	return "/api/" + apiVersion
}

func QueryRoute() string { return Base() + "/query" }
func LogsRoute() string  { return Base() + "/logs" }
func StatsRoute() string { return Base() + "/stats" }

const HealthRoute = "/health"
