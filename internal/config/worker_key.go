package config

type WorkerKeyStruct struct {
	PendingSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PendingSubmissionsQueue: "pending_submissions_queue",
}
