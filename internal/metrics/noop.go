package metrics

var _ Recorder = Noop{}

// Noop discards all measurements.
type Noop struct{}

func (Noop) TokenIssued(string) {}
func (Noop) TokenVerified(string, string) {}
func (Noop) TokenRevoked(string) {}
func (Noop) FamilyRejected() {}
func (Noop) PermissionDecision(string, bool) {}
func (Noop) AuditRecorded(string, bool) {}
func (Noop) CSRFValidation(string) {}
func (Noop) NostrVerification(string) {}
func (Noop) DIDResolution(string, bool) {}
