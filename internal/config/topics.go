package config

const (
	// TopicVectorizeTask is the NSQ topic for queued vectorization runs.
	TopicVectorizeTask = "vectorize.task"

	// TopicIntakeCompleted is published after a scan registers new documents.
	TopicIntakeCompleted = "intake.completed"

	// ChannelBackend is the consumer channel used by the service.
	ChannelBackend = "incredoc"
)
