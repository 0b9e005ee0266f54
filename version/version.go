package version

const Version = "0.4.1"
