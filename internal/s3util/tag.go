package s3util

// projectTag is the URL-encoded S3 object tagging string for cost allocation.
const projectTag = "Project=nextlevel"

// ProjectTagging returns a pointer to the URL-encoded S3 object tagging string
// for use as PutObjectInput.Tagging.
func ProjectTagging() *string {
	t := projectTag
	return &t
}
