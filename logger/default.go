package logger

var defLogger = newSlog(InfoLevel, false, FormatAuto, nil)

func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}

// SetLevel sets the minimum level of the default logger.
func SetLevel(level LogLevel) {
	defLogger.SetLevel(level)
}

// GetLogger returns the default logger. It is used by every package when no
// logger option is supplied.
func GetLogger() Logger {
	return defLogger
}

// SetLogger replaces the default logger returned by GetLogger.
// It is not safe to call concurrently with logging and is meant for program start-up.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	defLogger = l
}

func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}
