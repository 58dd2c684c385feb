package pcsc

import (
	"github.com/ansel1/merry/v2"
)

func deferWrap(err *error) {
	if err != nil && *err != nil {
		*err = merry.WrapSkipping(*err, 1)
	}
}
