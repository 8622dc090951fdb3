package verifier

// Verdict is the oracle's judgement for a single address. Verified is the
// authoritative pass/fail signal; the other flags are diagnostic detail
// reported by the oracle and are never recomputed locally.
type Verdict struct {
	Email      string `json:"email"`
	Syntax     bool   `json:"syntax"`
	Disposable bool   `json:"disposable"`
	MXRecord   bool   `json:"mxRecord"`
	SMTP       bool   `json:"smtp"`
	Verified   bool   `json:"verified"`
}

// verifyRequest is the oracle call body.
type verifyRequest struct {
	Email string `json:"email"`
}

// verifyResponse is the oracle response envelope.
type verifyResponse struct {
	Result Verdict `json:"result"`
}

// FallbackVerdict is the conservative verdict recorded for an address whose
// verification could not be completed (timeout, exhausted rate-limit retries,
// transport failure). The address is treated as unverified and flagged
// disposable so downstream consumers err on the side of dropping it.
func FallbackVerdict(email string) Verdict {
	return Verdict{
		Email:      email,
		Syntax:     false,
		Disposable: true,
		MXRecord:   false,
		SMTP:       false,
		Verified:   false,
	}
}
