package nn

// SleepNet returns the stage-classifier layers: two convolution blocks, two
// stacked LSTMs and a dense head with one softmax output per class.
func SleepNet(classes int) []Layer {
	return []Layer{
		Conv1D(64, 5, "relu"),
		BatchNorm(),
		MaxPool1D(2),
		Conv1D(128, 3, "relu"),
		BatchNorm(),
		MaxPool1D(2),
		Dropout(0.3),
		LSTM(128, true),
		LSTM(64, false),
		Dropout(0.5),
		Dense(128, "relu"),
		Dense(classes, "softmax"),
	}
}

// BuildSleepNet builds SleepNet for epochs of the given number of samples of
// one channel.
func BuildSleepNet(steps, classes int, seed uint64) (*Sequential, error) {
	return NewSequential(Shape{Steps: steps, Features: 1}, seed, SleepNet(classes)...)
}
