package access

type Request struct {
	StorageKey string `form:"storage_key"`
	Bucket     string `form:"bucket"`
	Public     bool   `form:"public"`
}
