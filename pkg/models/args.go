package models

type DaemonArgs struct {
	Home   string
	Debug  bool
	Once   bool
	Worker int
}

type SubmitArgs struct {
	Home         string
	StudentID    string
	QuestionID   string
	LabSessionID string
	Source       string
	TestsFile    string
	Uploads      string
}

type MonitorArgs struct {
	Home         string
	LabSessionID string
	MonitorID    string
}
