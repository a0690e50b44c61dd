package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jwtsession"

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	TokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "tokens_issued_total", Help: "Number of signed tokens by kind."},
		[]string{"kind"},
	)
	TokenVerifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "token_verify_failures_total", Help: "Token verification failures by kind and reason."},
		[]string{"kind", "reason"},
	)
	TokenRenewals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "token_renewals_total", Help: "Successful renew-token calls by path (sliding or refresh)."},
		[]string{"path"},
	)
	RefreshExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "refresh_exchanges_total", Help: "Refresh token exchanges by result."},
		[]string{"result"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(TokensIssued)
	reg.MustRegister(TokenVerifyFailures)
	reg.MustRegister(TokenRenewals)
	reg.MustRegister(RefreshExchanges)
}
