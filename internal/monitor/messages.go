package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/stats"
)

const timeLayout = "2006-01-02 15:04:05 UTC"

// humanDuration renders d as "3 minutes"; under a second it is "0 seconds".
func humanDuration(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	base := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(base, base.Add(d), "", ""))
}

func downMessage(t *domain.Target, inc *domain.Incident, res domain.CheckResult, diag *probe.DNSStatus) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", t.URL)
	fmt.Fprintf(&b, "Severity: %s\n", inc.Severity)
	if res.StatusCode != nil {
		fmt.Fprintf(&b, "Status code: %d\n", *res.StatusCode)
	}
	if res.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.Error)
	}
	if diag != nil && diag.Class != "" {
		fmt.Fprintf(&b, "DNS: %s", diag.Class)
		if diag.ResolverError != "" {
			fmt.Fprintf(&b, " (%s)", diag.ResolverError)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Since: %s", inc.StartedAt.UTC().Format(timeLayout))
	return notify.Message{
		Recipient: t.OwnerID,
		Type:      domain.NotifyDown,
		Title:     fmt.Sprintf("%s is DOWN", t.DisplayName()),
		Body:      b.String(),
	}
}

func recoveryMessage(t *domain.Target, inc *domain.Incident) notify.Message {
	var d time.Duration
	if inc.ResolvedAt != nil {
		d = inc.Duration(*inc.ResolvedAt)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\n", t.URL)
	fmt.Fprintf(&b, "Downtime: %s\n", humanDuration(d))
	if t.LastResponseTimeMS != nil {
		fmt.Fprintf(&b, "Response time: %.0f ms\n", *t.LastResponseTimeMS)
	}
	if inc.ResolvedAt != nil {
		fmt.Fprintf(&b, "Recovered: %s", inc.ResolvedAt.UTC().Format(timeLayout))
	}
	return notify.Message{
		Recipient: t.OwnerID,
		Type:      domain.NotifyRecovery,
		Title:     fmt.Sprintf("%s is back UP", t.DisplayName()),
		Body:      strings.TrimRight(b.String(), "\n"),
	}
}

func reportMessage(owner string, r stats.Report) notify.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Period: %s to %s\n", r.Since.UTC().Format("2006-01-02"), r.Until.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "Targets: %d (%d up)\n", r.Targets, r.Up)
	fmt.Fprintf(&b, "Checks: %s (%s successful)\n", humanize.Comma(r.Checks), humanize.Comma(r.SuccessfulChecks))
	fmt.Fprintf(&b, "Uptime: %.2f%%\n", r.Uptime)
	if r.AvgResponseMS != nil {
		fmt.Fprintf(&b, "Avg response: %.0f ms\n", *r.AvgResponseMS)
	}
	fmt.Fprintf(&b, "Incidents: %d (%d resolved)", r.Incidents, r.Resolved)
	if r.Resolved > 0 {
		fmt.Fprintf(&b, "\nAvg downtime: %s", humanDuration(r.AvgDowntime))
	}
	return notify.Message{
		Recipient: owner,
		Type:      domain.NotifyReport,
		Title:     "Weekly uptime report",
		Body:      b.String(),
	}
}
