package kubernetes

// K8sConfig identifies the lease one controller instance competes for.
type K8sConfig struct {
	// Namespace is where the lease object lives.
	Namespace string

	// LeaderLockID names the lease; all replicas of one deployment share it.
	LeaderLockID string

	// Identity distinguishes this replica, typically the pod name.
	Identity string
}
