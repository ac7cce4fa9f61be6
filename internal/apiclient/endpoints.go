package apiclient

// Backend route prefixes.
const (
	WorkoutsPath    = "/api/mobile/workouts"
	BodyMetricsPath = "/api/mobile/metrics"
	UserProfilePath = "/api/mobile/user/profile"
	RefreshPath     = "/api/mobile/auth/refresh"
)
