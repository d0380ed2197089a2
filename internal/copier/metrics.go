package copier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "usbforge_copy_files_total",
		Help: "Files handled by the copy engine, by result.",
	}, []string{"result"})
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usbforge_copy_retries_total",
		Help: "File copy attempts retried after a failure.",
	})
	bytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "usbforge_copy_bytes_total",
		Help: "Bytes written to devices.",
	})
)
