package record

import (
	log "github.com/sirupsen/logrus"
)

// Dump logs every field of r as one debug entry.
func Dump(logger log.FieldLogger, r *Record) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	fields := log.Fields{"family": r.family, "count": len(r.fields)}
	for _, f := range r.fields {
		fields["field."+f.Name] = f.Value.String()
	}
	logger.WithFields(fields).Debug("decoded record")
}
