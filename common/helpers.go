package common

import (
	"io"

	"github.com/oasisprotocol/vaulthub/log"
)

// CloseOrLog closes c and logs any error.
func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("close failed", "err", err)
	}
}
