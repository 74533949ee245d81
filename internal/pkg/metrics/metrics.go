package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 业务指标。副作用类操作（邮件、通知 fan-out、媒体上传）失败不回滚主操作，
// 只在这里计数，保证 best-effort 策略是可观测的。
var (
	MailSentTotal   prometheus.Counter
	MailFailedTotal prometheus.Counter

	NotificationCreatedTotal prometheus.Counter
	NotificationDroppedTotal prometheus.Counter

	MediaUploadTotal       prometheus.Counter
	MediaUploadFailedTotal prometheus.Counter

	RateLimitRejectedTotal prometheus.Counter

	OTPIssuedTotal   prometheus.Counter
	OTPVerifiedTotal prometheus.Counter
)

var initOnce sync.Once

// InitMetrics 注册所有 Prometheus 指标，可重复调用。
func InitMetrics() {
	initOnce.Do(func() {
		MailSentTotal = newCounter("buildr_mail_sent_total", "Number of outbound mails sent successfully.")
		MailFailedTotal = newCounter("buildr_mail_failed_total", "Number of outbound mails that failed to send.")

		NotificationCreatedTotal = newCounter("buildr_notification_created_total", "Number of notifications fanned out.")
		NotificationDroppedTotal = newCounter("buildr_notification_dropped_total", "Number of notification writes that failed and were dropped.")

		MediaUploadTotal = newCounter("buildr_media_upload_total", "Number of media objects uploaded.")
		MediaUploadFailedTotal = newCounter("buildr_media_upload_failed_total", "Number of media uploads that failed.")

		RateLimitRejectedTotal = newCounter("buildr_ratelimit_rejected_total", "Number of requests rejected by the rate limiter.")

		OTPIssuedTotal = newCounter("buildr_otp_issued_total", "Number of registration OTP codes issued.")
		OTPVerifiedTotal = newCounter("buildr_otp_verified_total", "Number of OTP codes verified successfully.")
	})
}

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	prometheus.MustRegister(c)
	return c
}
