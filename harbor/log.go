package harbor

import "github.com/sirupsen/logrus"

var (
	plog = logrus.WithField("TAG", "[HARBOR]")
)
